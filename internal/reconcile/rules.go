package reconcile

// verdict is what a confirmation means for the matched pending record.
type verdict int

const (
	// verdictConfirm funds in full: create or activate the escrow.
	verdictConfirm verdict = iota
	// verdictFail marks the record failed and acknowledges the webhook.
	verdictFail
	// verdictUnderfunded rejects the whole handler: an under-funded
	// confirmation must never silently produce a fully-funded escrow.
	verdictUnderfunded
)

func decide(succeeded bool, received, expected int64) verdict {
	if !succeeded {
		return verdictFail
	}
	if received < expected {
		return verdictUnderfunded
	}
	return verdictConfirm
}
