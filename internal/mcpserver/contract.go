package mcpserver

// TaggingContract describes the canonical tag format that LLM consumers
// should follow when tagging images.
const TaggingContract = `# Raido Tagging Contract

Every tag attached to an image in Raido MUST follow this structure.

## Format

1. **Lowercase only.** Tags are case-folded on write; submit lowercase
   to avoid surprises.
2. **Kebab-case words.** Internal whitespace becomes hyphens:
   ` + "`" + `meeting notes` + "`" + ` is stored as ` + "`" + `meeting-notes` + "`" + `.
3. **Hierarchy with slashes.** Use ` + "`" + `/` + "`" + ` for nesting:
   ` + "`" + `animal/cat` + "`" + `, ` + "`" + `place/norway/coast` + "`" + `.
   No empty segments: ` + "`" + `a//b` + "`" + ` is rejected.
4. **Describe content, not files.** Prefer ` + "`" + `sunset` + "`" + ` over
   ` + "`" + `img-2024-05` + "`" + `; provenance is tracked separately.

## Behaviour

- Tags are deduplicated; attaching an existing tag is a no-op.
- Importing a file whose content is already in the library merges the
  new tags into the existing item instead of creating a duplicate.
- Search matches tags fuzzily: ` + "`" + `lndscp` + "`" + ` finds ` + "`" + `landscape` + "`" + `.
`
