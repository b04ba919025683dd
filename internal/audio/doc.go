// Package audio plays bell sound files.
//
// Library resolves names inside the audio directory (afero-backed so it can
// be tested in memory); ProcessPlayer shells out to the platform player and
// keeps at most one playback alive at a time.
package audio
