// Package events publishes chunk and session notifications.
// Publication is advisory: failures are logged by callers and never fail an upload.
package events
