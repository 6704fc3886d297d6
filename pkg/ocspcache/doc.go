// Package ocspcache caches per-certificate OCSP revocation responses
// (component B): one cached golang.org/x/crypto/ocsp response per
// certificate serial, refreshed on a background schedule so the request
// path never blocks on an OCSP round trip.
package ocspcache
