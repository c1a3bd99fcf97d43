// Package cleaning turns the crawler's raw export into analysis-ready tables.
//
// The raw export is re-read, trial IDs are pulled from detail URLs, titles
// are normalized, duplicate trials collapse to their first occurrence and
// each sponsor is assigned a region from a ranked keyword table. Three CSVs
// are written: the cleaned trials, trials per disease and trials per region.
package cleaning
