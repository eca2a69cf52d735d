// Package device defines the data model shared by the update sequencer and
// the collaborators it drives: logical identities, probe snapshots, mode
// switch acknowledgements, transfer results and firmware package references.
//
// The collaborator interfaces (Prober, ModeSwitcher, Transferer) are the only
// way the sequencer touches a device. Concrete implementations live in
// internal/blelink (native BLE) and internal/tool (external commands).
package device
