// Package core is the import reconciliation engine.
//
// It turns an operator-supplied delimited file into reconciled records in a
// curated catalog. The package holds all domain logic and depends on storage
// and the external catalog only through interfaces, so web handlers, the CLI
// and tests drive it the same way.
//
// # Pipeline
//
//   - Parse: [Parse] decodes the file and maps headers to a [Flavor]'s
//     canonical fields. Any [ParseError] aborts the import.
//   - Validate: [RowValidator] cleans cells and checks every row. Rejected
//     rows are reported before a session exists.
//   - Session: [Service.Start] stores one [Session] and one PENDING [Item]
//     per accepted row.
//   - Drive: [Driver.Run] resolves items in row order through the [Matcher].
//     Ambiguous rows persist a [PendingPrompt] and suspend the run; answers
//     arrive through [Driver.Respond] carrying only the prompt token.
//   - Commit: [Committer.TryCommitGroup] writes a group to the target catalog
//     once every member succeeded, or link-repairs an existing entity.
//
// # Flavors
//
// Importers differ only in their [Flavor]: field schema, subject field,
// exclusive id fields and group key extraction. Flavors are registered at
// init time with [Register]:
//
//	core.Register(&core.Flavor{
//	    Key:          "games",
//	    SubjectField: "title",
//	    Fields:       []core.FieldSpec{{Name: "title", Required: true}},
//	})
//
// # Error Handling
//
// Errors map to user-facing messages with [MapError]. Each category has a
// code for support reference:
//
//   - PRS: parse errors
//   - VAL: validation errors
//   - SES: session and prompt errors
//   - MCH, GRP, CMT: matching, group and commit errors
//   - DB: storage errors
package core
