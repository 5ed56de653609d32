package catalog

// FilterAll is the wildcard value accepted by the filter helpers.
const FilterAll = "all"

// PlaceholderImage is the image reference substituted for restaurants
// without a photograph.
const PlaceholderImage = "placeholder"

// FilterByCuisineAndNeighborhood returns the restaurants matching both
// criteria. Either criterion may be FilterAll to match everything.
func FilterByCuisineAndNeighborhood(restaurants []Restaurant, cuisine, neighborhood string) []Restaurant {
	filtered := make([]Restaurant, 0, len(restaurants))
	for _, restaurant := range restaurants {
		if cuisine != FilterAll && restaurant.CuisineType != cuisine {
			continue
		}
		if neighborhood != FilterAll && restaurant.Neighborhood != neighborhood {
			continue
		}
		filtered = append(filtered, restaurant)
	}
	return filtered
}

// FilterByCuisine returns the restaurants serving the given cuisine.
func FilterByCuisine(restaurants []Restaurant, cuisine string) []Restaurant {
	return FilterByCuisineAndNeighborhood(restaurants, cuisine, FilterAll)
}

// FilterByNeighborhood returns the restaurants in the given neighborhood.
func FilterByNeighborhood(restaurants []Restaurant, neighborhood string) []Restaurant {
	return FilterByCuisineAndNeighborhood(restaurants, FilterAll, neighborhood)
}

// Neighborhoods returns the distinct neighborhoods in first-seen order.
func Neighborhoods(restaurants []Restaurant) []string {
	return distinct(restaurants, func(r Restaurant) string { return r.Neighborhood })
}

// Cuisines returns the distinct cuisine types in first-seen order.
func Cuisines(restaurants []Restaurant) []string {
	return distinct(restaurants, func(r Restaurant) string { return r.CuisineType })
}

func distinct(restaurants []Restaurant, key func(Restaurant) string) []string {
	seen := make(map[string]struct{}, len(restaurants))
	values := make([]string, 0, len(restaurants))
	for _, restaurant := range restaurants {
		value := key(restaurant)
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}

// ImageReference resolves the image name for a restaurant, falling back to
// the placeholder when no photograph is recorded.
func ImageReference(restaurant Restaurant) string {
	if restaurant.Photograph == "" {
		return PlaceholderImage
	}
	return restaurant.Photograph
}
