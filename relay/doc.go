// Package relay connects the channel to a generation backend.
//
// A relay listens for Task messages. For each one it uploads the sketch,
// submits the img2img job and polls until the backend has an output,
// sending Status messages along the way:
//
//	uploading -> submitted -> running 1/30 -> running 2/30 -> ... -> Result
//
// Any error ends the job with a Status whose text starts with "failed: ".
// Jobs run on their own goroutines so delivery to other listeners is
// never held up. A task id already in flight is ignored until its job
// ends.
package relay
