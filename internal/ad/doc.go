// Package ad is a small trace-based automatic differentiation engine for
// functions of time and named scalar inputs. It supports forward-mode
// tangents, reverse-mode tapes, vectorising maps over the time axis, and a
// memoising jit wrapper, and it lets opaque operations (such as a native DAE
// solve) participate through the Primitive interface with their own
// differentiation and batching rules.
package ad
