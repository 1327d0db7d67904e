package raindrop

import "time"

// userResponse is the /user payload, trimmed to the group list.
type userResponse struct {
	Result bool `json:"result"`
	User   struct {
		Groups []apiGroup `json:"groups"`
	} `json:"user"`
}

// apiGroup is one entry in the user's ordered group list.
type apiGroup struct {
	Title       string  `json:"title"`
	Hidden      bool    `json:"hidden"`
	Collections []int64 `json:"collections"`
}

// collectionsResponse is the payload of both /collections and
// /collections/childrens.
type collectionsResponse struct {
	Result bool            `json:"result"`
	Items  []apiCollection `json:"items"`
}

type apiCollection struct {
	ID     int64  `json:"_id"`
	Title  string `json:"title"`
	Sort   int64  `json:"sort"`
	Parent struct {
		ID int64 `json:"$id"`
	} `json:"parent"`
}

// raindropsResponse is one page of /raindrops/{collection}.
type raindropsResponse struct {
	Result bool          `json:"result"`
	Items  []apiRaindrop `json:"items"`
}

type apiRaindrop struct {
	ID         int64     `json:"_id"`
	Link       string    `json:"link"`
	Title      string    `json:"title"`
	LastUpdate time.Time `json:"lastUpdate"`
	Collection struct {
		ID int64 `json:"$id"`
	} `json:"collection"`
	CollectionID int64 `json:"collectionId"`
}

// collectionID returns the owning collection, preferring the nested
// reference over the legacy flat field.
func (r *apiRaindrop) collectionID() int64 {
	if r.Collection.ID != 0 {
		return r.Collection.ID
	}

	return r.CollectionID
}

// errorResponse is the shape Raindrop uses for failures, both as
// non-200 bodies and occasionally as result:false with a 200.
type errorResponse struct {
	Result       bool   `json:"result"`
	ErrorMessage string `json:"errorMessage"`
}
