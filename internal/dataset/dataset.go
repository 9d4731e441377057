// Package dataset holds the static reference dataset used to seed an empty
// replication document: movie/person entities and typed relation edges.
package dataset

// Person is a person entity in the reference graph.
type Person struct {
	ID   string
	Name string
	Born int
}

// Work is a movie/work entity in the reference graph.
type Work struct {
	ID       string
	Title    string
	Released int
}

// Relation is a typed edge between two entities. Edges reference entity ids,
// never entity objects, so the graph stays cycle-free in memory.
type Relation struct {
	ID   string
	Type string
	From string
	To   string
}

// Dataset is the full reference graph.
type Dataset struct {
	People    []Person
	Works     []Work
	Relations []Relation
}

// EntityCount reports the number of person and work entities.
func (d Dataset) EntityCount() int { return len(d.People) + len(d.Works) }

// Default returns the built-in reference dataset: 5 people, 3 works, and 6
// relation edges.
func Default() Dataset {
	return Dataset{
		People: []Person{
			{ID: "person:keanu", Name: "Keanu Reeves", Born: 1964},
			{ID: "person:carrie-anne", Name: "Carrie-Anne Moss", Born: 1967},
			{ID: "person:laurence", Name: "Laurence Fishburne", Born: 1961},
			{ID: "person:lana", Name: "Lana Wachowski", Born: 1965},
			{ID: "person:lilly", Name: "Lilly Wachowski", Born: 1967},
		},
		Works: []Work{
			{ID: "work:matrix", Title: "The Matrix", Released: 1999},
			{ID: "work:matrix-reloaded", Title: "The Matrix Reloaded", Released: 2003},
			{ID: "work:matrix-revolutions", Title: "The Matrix Revolutions", Released: 2003},
		},
		Relations: []Relation{
			{ID: "rel:keanu-matrix", Type: "ACTED_IN", From: "person:keanu", To: "work:matrix"},
			{ID: "rel:keanu-reloaded", Type: "ACTED_IN", From: "person:keanu", To: "work:matrix-reloaded"},
			{ID: "rel:carrie-anne-matrix", Type: "ACTED_IN", From: "person:carrie-anne", To: "work:matrix"},
			{ID: "rel:laurence-matrix", Type: "ACTED_IN", From: "person:laurence", To: "work:matrix"},
			{ID: "rel:lana-matrix", Type: "DIRECTED", From: "person:lana", To: "work:matrix"},
			{ID: "rel:lilly-revolutions", Type: "DIRECTED", From: "person:lilly", To: "work:matrix-revolutions"},
		},
	}
}
