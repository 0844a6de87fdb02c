// Package emergency ranks and broadcasts alarm readings. An SOS from a
// watch nobody registered still reaches every subscribed dashboard.
package emergency
