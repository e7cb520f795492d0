// Package stage provides the generic stage-service runtime and its four
// pipeline specializations: chief editor, section editor, writer, verifier.
//
// A stage service is a long-lived consumer on one input subject. For each
// envelope it invokes its capability and publishes zero or more derived
// envelopes; all routing context travels inside the envelope, so every
// service is stateless and horizontally replicable.
package stage

// Service identifiers carried in envelope sender/target fields.
const (
	ClientService   = "client@v1"
	ChiefService    = "chief@v1"
	SectionService  = "section@v1"
	WriterService   = "writer@v1"
	VerifierService = "verifier@v1"
)

// Subjects names the logical channels the pipeline runs over.
type Subjects struct {
	ChiefIn   string
	SectionIn string
	WriteIn   string
	VerifyIn  string
	Done      string
}

// DefaultSubjects returns the canonical subject layout.
func DefaultSubjects() Subjects {
	return Subjects{
		ChiefIn:   "newsroom.chief.in",
		SectionIn: "newsroom.section.in",
		WriteIn:   "newsroom.write.in",
		VerifyIn:  "newsroom.verify.in",
		Done:      "newsroom.done",
	}
}
