// Package imaging defines the image work item carried through the pipeline
// and the four pure filters applied to it: integer upscale, desaturation,
// horizontal flip, and Sobel edge detection.
//
// Every filter allocates a new pixel buffer and never mutates its input, so
// the caller may release the input as soon as the filter returns.
package imaging
