package mapping

// DefaultYAML maps the parent/child one-to-one pair the CLI works with when no
// mapping file is configured. Parent owns the association through child_id;
// Child.parent is its inverse side.
const DefaultYAML = `entities:
  - name: Parent
    table: gh_parent
    id: id
    fields:
      - name: id
        kind: integer
    associations:
      - name: child
        kind: one_to_one
        target: Child
        join_column: child_id
        inversed_by: parent
  - name: Child
    table: gh_child
    id: id
    fields:
      - name: id
        kind: integer
      - name: name
        kind: text
        nullable: true
    associations:
      - name: parent
        kind: one_to_one
        target: Parent
        mapped_by: child
`

// Default returns the registry described by DefaultYAML.
func Default() *Registry {
	r, err := Parse([]byte(DefaultYAML))
	if err != nil {
		panic(err)
	}
	return r
}
