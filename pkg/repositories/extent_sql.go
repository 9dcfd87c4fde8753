package repositories

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

const docColumn = "d.metadata"

// ExtentSelectSQL builds the SELECT producing dataset_spatial rows for every
// non-archived dataset of the product bound to $1. regionSQL is the product's
// region code expression over d.metadata, or empty when it has none.
func ExtentSelectSQL(p *models.CatalogProduct, regionSQL string) string {
	md := p.MetadataType
	if regionSQL == "" {
		regionSQL = "NULL"
	}

	centerTime := "NULL::timestamptz"
	if lower, upper, ok := md.TimeOffsets(); ok {
		lo := metadoc.LowerTimestampSQL(docColumn, lower)
		hi := metadoc.UpperTimestampSQL(docColumn, upper)
		centerTime = fmt.Sprintf("(%s + (%s - %s) / 2)", lo, hi, lo)
	}

	size := fmt.Sprintf("(%s)::bigint", metadoc.TextSQL(docColumn, md.SizeBytesOffset()))
	creation := fmt.Sprintf("COALESCE(%s, d.added)", metadoc.TimestampSQL(docColumn, md.CreatedOffset()))

	ref := "NULL::text AS spatial_ref, NULL::text AS datum, NULL::text AS zone"
	footprint := "NULL::geometry"
	if md.IsSpatial() {
		proj := md.Dataset.GridSpatial
		ref = fmt.Sprintf("%s AS spatial_ref, %s AS datum, %s AS zone",
			metadoc.TextSQL(docColumn, metadoc.Join(proj, "spatial_reference")),
			metadoc.TextSQL(docColumn, metadoc.Join(proj, "datum")),
			metadoc.TextSQL(docColumn, metadoc.Join(proj, "zone")),
		)
		footprint = footprintSQL(p, proj, "s.srid")
	}

	return fmt.Sprintf(`
		SELECT x.id, x.dataset_type_ref, x.center_time,
		       CASE WHEN ST_IsValid(x.footprint) THEN x.footprint ELSE ST_Buffer(x.footprint, 0) END,
		       x.region_code, x.size_bytes, x.creation_time, x.crs
		FROM (
			SELECT d.id, d.dataset_type_ref,
			       %s AS center_time,
			       %s AS footprint,
			       %s AS region_code,
			       %s AS size_bytes,
			       %s AS creation_time,
			       (SELECT upper(auth_name) || ':' || auth_srid FROM spatial_ref_sys WHERE srid = s.srid) AS crs
			FROM agdc.dataset d
			CROSS JOIN LATERAL (SELECT %s) r
			CROSS JOIN LATERAL (SELECT %s AS srid) s
			WHERE d.dataset_type_ref = $1 AND d.archived IS NULL
		) x
		WHERE x.center_time IS NOT NULL`,
		centerTime, footprint, regionSQL, size, creation, ref, sridSQL(p.DefaultCRS()))
}

// footprintSQL is the dataset footprint in EPSG:4326: valid_data when present,
// else the corner polygon, in the dataset's own CRS.
func footprintSQL(p *models.CatalogProduct, proj []string, srid string) string {
	validData := metadoc.JSONSQL(docColumn, metadoc.Join(proj, "valid_data"))
	point := func(corner string) string {
		return fmt.Sprintf("ST_MakePoint(%s, %s)",
			metadoc.FloatSQL(docColumn, metadoc.Join(proj, "geo_ref_points", corner, "x")),
			metadoc.FloatSQL(docColumn, metadoc.Join(proj, "geo_ref_points", corner, "y")),
		)
	}
	ll, ul, ur, lr := point("ll"), point("ul"), point("ur"), point("lr")
	native := fmt.Sprintf(
		"CASE WHEN %s IS NOT NULL THEN ST_GeomFromGeoJSON((%s)::text) ELSE ST_MakePolygon(ST_MakeLine(ARRAY[%s, %s, %s, %s, %s])) END",
		validData, validData, ll, ul, ur, lr, ll)

	g := fmt.Sprintf("ST_SetSRID(%s, %s)", native, srid)
	if tol := p.SimplifyTolerance(); tol > 0 {
		g = fmt.Sprintf("ST_SimplifyPreserveTopology(%s, %s)", g, strconv.FormatFloat(tol, 'g', -1, 64))
	}
	return fmt.Sprintf("ST_Transform(%s, %d)", g, geo.CanonicalSRID)
}

// sridSQL resolves the dataset SRID from the lateral r (spatial_ref, datum,
// zone) in the same order as geo.ResolveCRS.
func sridSQL(defaultCRS string) string {
	lookup := func(auth, code string) string {
		return fmt.Sprintf("(SELECT srid FROM spatial_ref_sys WHERE lower(auth_name) = lower(%s) AND auth_srid = (%s)::integer)", auth, code)
	}
	// substring(... from pattern) returns the first capture group only.
	wkt := geo.WKTAuthorityPattern.String()
	wktCode := strings.Replace(wkt, `"([a-zA-Z0-9]+)"`, `"[a-zA-Z0-9]+"`, 1)

	parts := []string{
		fmt.Sprintf("CASE WHEN r.spatial_ref ~ %s THEN %s END",
			quoteLiteral(geo.ShortCRSPattern.String()),
			lookup("split_part(r.spatial_ref, ':', 1)", "split_part(r.spatial_ref, ':', 2)")),
		fmt.Sprintf("CASE WHEN r.spatial_ref ~ %s THEN %s END",
			quoteLiteral(wkt),
			lookup("substring(r.spatial_ref from "+quoteLiteral(wkt)+")",
				"substring(r.spatial_ref from "+quoteLiteral(wktCode)+")")),
		fmt.Sprintf("CASE WHEN r.datum = 'GDA94' AND r.zone ~ '^\\s*-?[0-9]+\\s*$' THEN %s END",
			lookup("'epsg'", "'283' || abs(trim(r.zone)::integer)")),
	}
	if geo.ShortCRSPattern.MatchString(defaultCRS) {
		auth, code, _ := strings.Cut(defaultCRS, ":")
		parts = append(parts, lookup(quoteLiteral(auth), quoteLiteral(code)))
	}
	return "COALESCE(" + strings.Join(parts, ", ") + ")"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
