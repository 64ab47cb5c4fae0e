// Package genome's compact genome file format.
//
// A compact genome file is a plain binary file with three parts, in order:
//
//  1. Body: for each container (e.g. chromosome), a contiguous run of bytes
//     packing that container's bases two bits per base, MSB-first within
//     each byte. N is not representable in the body and must not occur in
//     source sequence used to build one.
//
//  2. Table: a UTF-8, '\n'-terminated list of "name\tstart_byte\tstop_byte"
//     lines, one per container, in the order containers should be reported
//     by Containers(). start_byte is inclusive, stop_byte is exclusive, and
//     (stop_byte-start_byte)*4 must be >= the container's base count (the
//     final partial byte's unused bits are zero).
//
//  3. Footer: exactly 8 bytes, a big-endian signed 64-bit byte offset (from
//     the start of the file) at which the table begins.
package genome
