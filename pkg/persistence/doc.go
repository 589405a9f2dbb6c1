// Package persistence stores the boot state that must survive restarts:
// which firmware slot to boot, whether that slot still awaits verification,
// and which image version last failed.
//
// The state is a small JSON file replaced atomically on every save, so a
// power cut mid-write leaves either the old or the new state on disk.
package persistence
