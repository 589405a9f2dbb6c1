// Package update downloads and installs firmware images.
//
// A Manager checks for an update once per boot, on the first link
// Connected event. It fetches the image over HTTPS, reads the version from
// the image header before writing anything, refuses the running version
// and the last invalid version, streams the rest into the inactive slot,
// and restarts into it once the slot validates. Any failure leaves the
// boot pointer alone, so the running firmware stays authoritative.
//
// VerifyBoot is the startup half of rollback protection: a freshly
// flashed image that fails diagnostics is rolled back before normal
// operation begins.
package update
