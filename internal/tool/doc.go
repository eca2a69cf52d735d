// Package tool runs external programs as device collaborators.
//
// Command lines are argument vectors with placeholders that are expanded
// per call:
//
//	{address}  the identity's address
//	{role}     "application" or "bootloader"
//	{package}  the firmware package path (transfer only)
//
// Commands are never run through a shell.
package tool
