// Package resolver maps device identities to patients.
//
// Each device family has its own lookup path: AVA4 sub-devices resolve
// through per-kind MAC slots with a gateway fallback, Kati watches
// through their IMEI, and Qube-Vital readings through the citizen ID
// carried in the payload, auto-provisioning unregistered patients on
// first sight. Positive results are cached for a short TTL.
package resolver
