// Package generator produces the module and memory files an inner step runs
// against, and drives that production from the campaign side.
//
// The generator speaks a line protocol on stdin. Each command is one
// character; blank space between commands is ignored:
//
//	w   write the module for the next step of the seed's byte stream
//	m   write the next catalogue memory image for the current module
//	q   exit
//
// Every command is answered with one line on stdout, "ok w <bytes>",
// "ok m <bytes>" or "err <message>", written only after the file has been
// renamed into place. The coordinator waits for the answer before handing
// the file to an engine runner.
package generator
