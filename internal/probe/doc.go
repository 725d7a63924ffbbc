// Package probe provides ffprobe-based media inspection and the
// normalized VideoProperties record consumed by the precondition
// validator. One JSON call covers stream/format metadata; a second
// decode pass supplies the frame-accurate count.
package probe
