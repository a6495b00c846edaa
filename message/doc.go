// Package message defines the wire protocol shared by producer and display
// contexts.
//
// A message is exactly one of three variants, discriminated by its "type"
// field and correlated by an opaque task id:
//
//	{"type":"task",   "taskId":..., "imageData":..., "positivePrompt":..., "negativePrompt":...}
//	{"type":"status", "taskId":..., "status":..., "progress"?:..., "total"?:...}
//	{"type":"result", "taskId":..., "imageUrl":...}
//
// Incoming bytes are parsed and then validated against an embedded JSON
// Schema before being converted to a concrete variant. Anything that does
// not match exactly one variant is rejected with ErrMalformed,
// ErrUnknownKind or ErrInvalid, and receivers drop it.
//
// The package does not look at payload semantics. Task ids are not checked
// for uniqueness and image data is carried as an opaque encoded string.
package message
