package mcpserver

// CategoryFormatContract describes the category file format and the note
// identifier rules that LLM consumers must respect when editing notes.
const CategoryFormatContract = `# Stash Category Format

Each category is one UTF-8 text file holding a front-matter block followed by
its notes.

## File layout

` + "```" + `
---
id: 6f1c2a4e-0b7d-4c1e-9a55-2f0e1d3c4b5a
title: Inbox
desc: Things to sort later
updated: 1718000000
created: 1717000000
---

# First note title

First note body.

______________

Second note without a title.
` + "```" + `

## Rules

1. The front matter opens and closes with a line of exactly three dashes.
   Keys are written in the order id, title, desc, updated, created.
   ` + "`desc`" + ` is omitted when empty. Timestamps are Unix seconds.
2. Notes are separated by a line of three or more underscores. Empty notes are
   dropped.
3. A note whose first line starts with "# " has that line's text as its title.
4. A note containing a separator line would be split in two when the file is
   read back. Do not put underscore-only lines inside note content.
5. Note content is limited to 1 MiB.

## Note identifiers

Notes are addressed as ` + "`index:hash`" + `: the 0-based position of the note and the
first 8 hex characters of the SHA-256 of its content.

- Identifiers change whenever a note is edited or an earlier note is deleted.
  Always use an identifier from a recent get_notes call.
- update_note and delete_note refuse to act when the identifier no longer
  matches the stored note. The response then carries the current identifier
  and content; re-read, decide, and retry.
- No tool edits the file directly; always go through the note tools.
`
