package worksteal_test

import (
	"fmt"

	worksteal "github.com/joeycumines/go-worksteal"
)

func ExampleParallelFor() {
	s := worksteal.Attach()
	defer s.Release()

	data := make([]int, 1000)
	_ = worksteal.ParallelFor(s, worksteal.Range{Begin: 0, End: len(data), Grain: 10}, func(r worksteal.Range) {
		for i := r.Begin; i < r.End; i++ {
			data[i] = i
		}
	})

	sum := 0
	for _, v := range data {
		sum += v
	}
	fmt.Println(sum)
	// Output: 499500
}

func ExampleParallelReduce() {
	s := worksteal.Attach()
	defer s.Release()

	total, _ := worksteal.ParallelReduce(s, worksteal.Range{Begin: 1, End: 101, Grain: 8}, 0,
		func(r worksteal.Range, acc int) int {
			for i := r.Begin; i < r.End; i++ {
				acc += i
			}
			return acc
		},
		func(a, b int) int { return a + b },
	)
	fmt.Println(total)
	// Output: 5050
}

func ExamplePipeline() {
	s := worksteal.Attach()
	defer s.Release()

	next := 0
	sum := 0
	p := &worksteal.Pipeline{}
	_ = p.AddFilter(worksteal.NewFilter(worksteal.FilterSerialInOrder, func(any) any {
		if next == 10 {
			return nil
		}
		next++
		return next
	}))
	_ = p.AddFilter(worksteal.NewFilter(worksteal.FilterParallel, func(x any) any {
		return x.(int) * x.(int)
	}))
	_ = p.AddFilter(worksteal.NewFilter(worksteal.FilterSerialInOrder, func(x any) any {
		sum += x.(int)
		return x
	}))
	_ = p.Run(s, 4)
	fmt.Println(sum)
	// Output: 385
}
