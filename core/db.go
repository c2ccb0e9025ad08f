package core

// DBOrdering is one ORDER BY term, bound from an `?ordering=` query
// parameter. Repositories whitelist the fields they accept.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
