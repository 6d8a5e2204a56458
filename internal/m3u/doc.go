// Package m3u reads and repairs the extended M3U files used to describe
// internet radio stations.
//
// A canonical station file has exactly three lines:
//
//	#EXTM3U[: <verdict>]
//	#EXTINF:<duration>,<label>
//	<stream URL>
//
// Files downloaded from station directories frequently lack the header or
// the description, carry blank lines, or include unrelated comments. Parse
// walks the lines through a small state machine and returns a Document that
// can be rendered back in canonical form.
package m3u
