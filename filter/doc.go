// Package filter defines the boolean filter model over payload fields and the
// single evaluator every index uses.
//
// A [Filter] combines conditions with must (AND), should (OR) and must_not
// (NOT). A [Condition] is one of: a field match, a numeric range, a field
// existence test, an id set, or a nested filter.
//
// Filters cross process boundaries as JSON:
//
//	{
//	  "must": [
//	    {"key": "city", "match": {"keyword": "London"}},
//	    {"key": "price", "range": {"gte": 10, "lt": 100}}
//	  ],
//	  "must_not": [{"has_id": [7, 9]}],
//	  "should": [{"filter": {"must": [{"key": "rating", "exists": true}]}}]
//	}
//
// Keys address stored (flattened) payload keys verbatim, e.g. "address__city".
package filter
