package query_test

import (
	"fmt"
	"net/url"

	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

func ExampleBuilder_Build() {
	builder := query.NewBuilder(query.SchemaFor[models.Tour]())

	values, _ := url.ParseQuery("price[gte]=500&sort=-price&limit=2&fields=name,price")
	descriptor, err := builder.Build(values)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(descriptor.Filter)
	fmt.Println(descriptor.Sort)
	fmt.Println(descriptor.Fields, descriptor.Page, descriptor.Limit)

	// Output:
	// map[price:map[$gte:500]]
	// [{price -1} {_id 1}]
	// [name price] 1 2
}
