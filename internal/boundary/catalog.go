package boundary

import (
	"fmt"
	"strings"
)

// DefaultYear is the TIGER/Line vintage used when none is configured.
const DefaultYear = 2023

// Product describes a TIGER/Line boundary product.
type Product struct {
	Name      string // Census directory name, e.g. "ZCTA520"
	Table     string // target table for database loads
	CodeField string // DBF attribute carrying the boundary code
}

// ZCTA5 is the national ZIP Code Tabulation Area product.
var ZCTA5 = Product{
	Name:      "ZCTA520",
	Table:     "zcta5",
	CodeField: "ZCTA5CE20",
}

// ArchiveName returns the ZIP file name for a product vintage,
// e.g. tl_2023_us_zcta520.zip.
func ArchiveName(p Product, year int) string {
	return fmt.Sprintf("tl_%d_us_%s.zip", year, strings.ToLower(p.Name))
}

// DownloadURL builds the Census Bureau HTTPS download URL for a product vintage.
func DownloadURL(p Product, year int) string {
	return fmt.Sprintf("https://www2.census.gov/geo/tiger/TIGER%d/%s/%s",
		year, p.Name, ArchiveName(p, year))
}

// FTPDownloadURL builds the Census Bureau FTP download URL for a product
// vintage. The FTP mirror serves the same tree as the HTTPS host.
func FTPDownloadURL(p Product, year int) string {
	return fmt.Sprintf("ftp://ftp2.census.gov/geo/tiger/TIGER%d/%s/%s",
		year, p.Name, ArchiveName(p, year))
}
