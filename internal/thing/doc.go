// Package thing persists the thing registry and the link state history.
//
// The registry mirrors the configured things so the API can list them with
// their creation time. The history keeps every device and MQTT link
// transition published on the linkstate notifier; a Recorder drains a
// notifier subscription into it and prunes entries past the retention
// window.
package thing
