package activity

// ObjectTypeDocument is the object type sinks record for document events.
const ObjectTypeDocument = "document"

// Document lifecycle verbs.
const (
	VerbDocumentCreated = "document.created"
	VerbDocumentSaved   = "document.saved"
	VerbDocumentLoaded  = "document.loaded"
)

// BuildDocumentCreatedEvent describes the first save of a document.
func BuildDocumentCreatedEvent(doc Document) Event {
	doc.PreviousETag = ""
	return buildDocumentEvent(VerbDocumentCreated, doc)
}

// BuildDocumentSavedEvent describes a save that replaced an existing
// revision, named by doc.PreviousETag.
func BuildDocumentSavedEvent(doc Document) Event {
	return buildDocumentEvent(VerbDocumentSaved, doc)
}

// BuildDocumentLoadedEvent describes a successful load. Loads write
// nothing, so the write-only fields are cleared.
func BuildDocumentLoadedEvent(doc Document) Event {
	doc.PreviousETag = ""
	doc.Keys = nil
	doc.Sorted = false
	return buildDocumentEvent(VerbDocumentLoaded, doc)
}

func buildDocumentEvent(verb string, doc Document) Event {
	return NormalizeEvent(Event{Verb: verb, Document: doc})
}
