// Package device implements the door personality: it keeps the authorised
// tag list, follows the portal's lock and lockout commands, and turns card
// swipes into access decisions that are reported back to the portal.
package device
