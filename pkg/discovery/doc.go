// Package discovery announces the device on the local network with
// mDNS/DNS-SD and finds other devices doing the same.
//
// While its link is up, a device advertises one instance of
// _device-info._tcp named "accessnode-<mac>", where <mac> is the station
// address as 12 lowercase hex digits. TXT records:
//
//	kind  device kind (door, interlock, vending)
//	mac   station address, same form as in the instance name
//	fw    running firmware version
//
// The device runs no listener of its own, so the SRV record carries the
// discard port.
package discovery
