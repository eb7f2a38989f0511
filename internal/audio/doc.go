// Package audio plays generated speech on named lines. Each line plays its
// clips in order while lines play side by side through one output device.
package audio
