// Package cms CMS-verifies signed prescription bundles against the
// BNetzA-VL (component D) and produces the signed closing receipt at task
// close. Grounded on original_source/server/src/pki_store/mod.rs's
// verify_cms: parse the CMS/PKCS#7 container, extract the signer
// certificate and signing time, then check the signer against the
// BNetzA-VL specifically — never the TSL, per spec.md §9.
package cms
