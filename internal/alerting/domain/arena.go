package alerting

// Slot is one arena position. Record is meaningful only when Occupied.
type Slot struct {
	Occupied bool        `json:"occupied"`
	Record   AlertRecord `json:"record"`
}

// Arena is the fixed set of persistent slots addressed by index.
type Arena [MaxSize]Slot

// FirstFree returns the lowest unoccupied index.
func (a *Arena) FirstFree() (int, bool) {
	for i := range a {
		if !a[i].Occupied {
			return i, true
		}
	}
	return 0, false
}

// Put stores rec at index i.
func (a *Arena) Put(i int, rec AlertRecord) {
	a[i] = Slot{Occupied: true, Record: rec}
}

// Clear frees index i.
func (a *Arena) Clear(i int) {
	a[i] = Slot{}
}

// Len returns the number of occupied slots.
func (a *Arena) Len() int {
	n := 0
	for i := range a {
		if a[i].Occupied {
			n++
		}
	}
	return n
}

// Occupied returns the occupied indexes in ascending order.
func (a *Arena) Occupied() []int {
	var out []int
	for i := range a {
		if a[i].Occupied {
			out = append(out, i)
		}
	}
	return out
}
