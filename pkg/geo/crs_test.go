package geo

import "testing"

func TestResolveCRS(t *testing.T) {
	const albersWKT = `PROJCS["GDA94 / Australian Albers",GEOGCS["GDA94",DATUM["Geocentric_Datum_of_Australia_1994"]],AUTHORITY["EPSG","3577"]]`

	tests := []struct {
		name       string
		spatialRef string
		datum      string
		zone       string
		defaultCRS string
		want       string
		wantOK     bool
	}{
		{"short reference", "epsg:32655", "", "", "", "EPSG:32655", true},
		{"leading zeros", "EPSG:04326", "", "", "", "EPSG:4326", true},
		{"wkt authority", albersWKT, "", "", "", "EPSG:3577", true},
		{"gda94 zone", "", "GDA94", "-55", "", "EPSG:28355", true},
		{"gda94 bad zone falls through", "", "GDA94", "south", "EPSG:3577", "EPSG:3577", true},
		{"other datum uses default", "", "WGS84", "55", "EPSG:3577", "EPSG:3577", true},
		{"reference wins over default", "EPSG:32656", "GDA94", "55", "EPSG:3577", "EPSG:32656", true},
		{"wkt without authority", `PROJCS["unnamed"]`, "", "", "", "", false},
		{"nothing", "", "", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveCRS(tt.spatialRef, tt.datum, tt.zone, tt.defaultCRS)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ResolveCRS() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
