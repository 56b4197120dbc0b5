// Package log wraps zerolog with the engine's component loggers
// (WithComponent, WithStore, WithGoods, WithOpID) so packages attach
// structured fields instead of formatting strings.
package log
