// Package trust loads, parses, and serves the two trust lists the
// Fachdienst checks certificates against (component A): the gematik TSL
// (health-sector participant certificates) and the BNetzA-VL (qualified
// signature certificates, used only to verify CMS-signed prescriptions).
// Both are the same XML schema; they are kept as two entirely separate
// documents because spec.md §9 forbids cross-using them.
package trust
