// Package codec provides ready-made decode pipelines for courier requests.
//
// Every pipeline reads the decompressed body in its stream stage and leaves
// I/O errors untouched so the engine can classify and retry them. Parse
// failures are reported as courier.KindCustom errors.
package codec
