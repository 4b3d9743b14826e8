// Package repository owns the case records, the id counter and the settings
// document, and persists them through a storage.KV.
//
// Records are partitioned into the fixed categories of models.Categories.
// Every mutation builds the new state off to the side, writes it in one
// PutMany call and only then swaps it in, so a failed write leaves the
// in-memory state untouched.
//
// Extension points are a fixed list of Hooks given at construction. Hooks
// run outside the repository lock but must not call back into the same
// repository from a PreSave hook.
package repository
