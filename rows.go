package handwriting

import "sync"

var rowsPool = make(map[int]*sync.Pool)
var rowsPoolMu sync.Mutex

// MakeRows reinterprets a flat float32 slice as rows of width cols
// without copying, so (T, B) tensor data can be written by [t][b] index.
// Return the header slice with ReturnRows when done.
func MakeRows(data []float32, rows, cols int) [][]float32 {
	retVal := borrowRows(rows)
	for i := range retVal {
		retVal[i] = data[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return retVal
}

// ReturnRows hands the row headers back for reuse. The underlying data
// is untouched.
func ReturnRows(it [][]float32) {
	rows := cap(it)
	for i := range it {
		it[i] = nil
	}
	rowsPoolMu.Lock()
	defer rowsPoolMu.Unlock()
	if p, ok := rowsPool[rows]; ok {
		p.Put(it[:0])
		return
	}
	p := &sync.Pool{
		New: func() interface{} { return make([][]float32, 0, rows) },
	}
	p.Put(it[:0])
	rowsPool[rows] = p
}

func borrowRows(rows int) [][]float32 {
	rowsPoolMu.Lock()
	p, ok := rowsPool[rows]
	rowsPoolMu.Unlock()
	if ok {
		return p.Get().([][]float32)[:rows]
	}
	return make([][]float32, rows)
}
