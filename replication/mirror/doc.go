// Package mirror keeps one on-disk clone per target repository in sync with
// both the forge (origin) and the source platform (upstream), and hands out
// private working copies of it.
//
// A mirror is only ever mutated under an exclusive per-target lock. Working
// copies are cloned from it under a shared lock, so a snapshot never
// observes a half-merged tree.
package mirror
