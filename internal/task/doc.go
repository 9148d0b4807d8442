// Package task runs one cancellable asynchronous fetch.
//
// A Task moves through Pending -> Fetching -> {Completed, Failed, Cancelled}.
// Start returns a task that is already Fetching. The only transition a caller
// can force is Fetching -> Cancelled, via Cancel; the rest are driven by the
// fetch function returning.
//
// Cancel does two things: it guarantees the completion callback never fires,
// and it cancels the context handed to the fetch function so the transport can
// abort its request and release resources. It does not wait for the fetch
// function to return.
//
// Errors and panics from the fetch function are caught here and delivered as
// a *FetchError; nothing escapes into the caller's goroutine.
package task
