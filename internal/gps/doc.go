// Package gps is the position source. It reads a USB NMEA receiver (or a
// gpsd daemon), forwards every raw sentence and emits a Location for each
// completed fix.
package gps
