package geo

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// ShortCRSPattern matches "AUTH:CODE" references such as "EPSG:3577".
	ShortCRSPattern = regexp.MustCompile(`^[A-Za-z0-9]+:[0-9]+$`)
	// WKTAuthorityPattern matches WKT ending in its authority clause.
	WKTAuthorityPattern = regexp.MustCompile(`AUTHORITY\["([a-zA-Z0-9]+)", *"([0-9]+)"\]\]$`)
)

// ResolveCRS finds the CRS of a dataset from its projection fields, in order:
// an AUTH:CODE spatial reference, a WKT authority clause, a GDA94 datum with a
// UTM zone, then the product default. The result is upper-case "AUTH:CODE".
func ResolveCRS(spatialRef, datum, zone, defaultCRS string) (string, bool) {
	if ShortCRSPattern.MatchString(spatialRef) {
		return normaliseShort(spatialRef), true
	}
	if m := WKTAuthorityPattern.FindStringSubmatch(spatialRef); m != nil {
		return authCode(m[1], m[2]), true
	}
	if datum == "GDA94" {
		if z, err := strconv.Atoi(strings.TrimSpace(zone)); err == nil {
			if z < 0 {
				z = -z
			}
			return "EPSG:283" + strconv.Itoa(z), true
		}
	}
	if ShortCRSPattern.MatchString(defaultCRS) {
		return normaliseShort(defaultCRS), true
	}
	return "", false
}

func normaliseShort(ref string) string {
	auth, code, _ := strings.Cut(ref, ":")
	return authCode(auth, code)
}

// authCode formats like upper(auth_name) || ':' || auth_srid from spatial_ref_sys.
func authCode(auth, code string) string {
	if n, err := strconv.Atoi(code); err == nil {
		code = strconv.Itoa(n)
	}
	return strings.ToUpper(auth) + ":" + code
}
