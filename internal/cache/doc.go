// Package cache stores synthesized audio keyed by voice and text. An
// in-memory LRU tier sits in front of a zstd compressed disk tier that
// survives restarts.
package cache
