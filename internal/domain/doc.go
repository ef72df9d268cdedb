// Package domain models prospective customers, NAP fiber distribution boxes,
// and the rules that decide which box a customer can be wired to.
//
// # Data Source
//
// Customer and NAP rows come from operator-maintained spreadsheets exported
// to CSV. Customers are the "did not subscribe / did not respond" leads of a
// sales zone; NAPs are the boxes of the plant with their port usage and, for
// most of them, surveyed coordinates.
//
// # Address Conventions
//
// Addresses are typed by hand and follow Argentine usage:
//
//	"<street> <number> [- <qualifier> <unit>]"  →  e.g. "ALSINA 956 - DTO. 4"
//	means door 956 of Alsina street, apartment 4.
//	Qualifiers: DTO/DPTO/DEPTO (apartment), PISO/PB/PA (floor), CASA, LOCAL,
//	OFICINA, INT (internal unit), PH, FTE/FDO (front/back of lot).
//	Street names may start with a number ("25 DE MAYO 1357", "9 DE JULIO 80").
//	The city name is sometimes glued to the door number ("ALSINA 405TANDIL").
//
// Street names are abbreviated inconsistently: "AV.", "AVDA", "GRAL.", "DR.",
// "PJE". [StreetMatcher] expands these before comparing two addresses.
//
// # Matching Rules
//
// A NAP is eligible when used/total ports is at most the occupancy threshold
// (0.30 by default). A customer is matched to the eligible NAP that is closest
// by great-circle distance, within the service radius (150 m by default), and
// on a compatible street. Equal distances prefer the box with more free ports.
// Geometric proximity alone is not enough: two points 20 m apart can sit on
// opposite sides of a block, which is not a valid fiber run.
//
// # ID Generation
//
// Assignment IDs are deterministic SHA-256 hashes of name|address|phone. This
// keeps re-runs idempotent for downstream sinks (upserts, compacted topics).
// See [AssignmentID].
package domain
