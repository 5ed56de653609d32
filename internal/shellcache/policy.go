package shellcache

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ServeHTTP is the per-request decision procedure, evaluated in order:
// cache hit, network with placeholder substitution, API passthrough without
// caching, cache-populating read, synthetic 404 on network failure.
func (w *Worker) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	w.mu.Lock()
	generation := w.generation
	if w.state != StateActive {
		// A staged generation does not answer requests until activation.
		generation = nil
	}
	w.mu.Unlock()

	target, err := w.resolve(request.URL.String())
	if err != nil {
		writeSyntheticNotFound(responseWriter)
		return
	}

	// Only reads are answerable from cache.
	if generation != nil && (request.Method == http.MethodGet || request.Method == http.MethodHead) {
		cached, ok, err := generation.Match(target)
		if err != nil {
			w.logger.Error("cache lookup failed", zap.String("url", target), zap.Error(err))
		} else if ok {
			writeCached(responseWriter, cached, request.Method != http.MethodHead)
			return
		}
	}

	upstream, err := http.NewRequestWithContext(request.Context(), request.Method, target, request.Body)
	if err != nil {
		writeSyntheticNotFound(responseWriter)
		return
	}
	upstream.Header = request.Header.Clone()

	response, err := w.httpClient.Do(upstream)
	if err != nil {
		// No connectivity is an answer, not a panic.
		writeSyntheticNotFound(responseWriter)
		return
	}
	defer response.Body.Close() //nolint:errcheck

	segments := pathSegments(response.Request.URL.Path)

	if last(segments) == sentinelImage {
		if generation != nil {
			placeholder, err := w.resolve(placeholderPath)
			if err == nil {
				if cached, ok, err := generation.Match(placeholder); err == nil && ok {
					writeCached(responseWriter, cached, request.Method != http.MethodHead)
					return
				}
			}
		}
		relay(responseWriter, response)
		return
	}

	if _, isAPI := apiSegments[secondToLast(segments)]; isAPI {
		// API responses must never be served stale from cache.
		relay(responseWriter, response)
		return
	}

	// Only GET responses populate the cache; every other method is an
	// uncacheable passthrough.
	if request.Method != http.MethodGet {
		relay(responseWriter, response)
		return
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		writeSyntheticNotFound(responseWriter)
		return
	}
	if generation != nil && response.StatusCode >= 200 && response.StatusCode < 300 {
		err := generation.Put(target, CachedResponse{
			Status: response.StatusCode,
			Header: storableHeader(response.Header),
			Body:   body,
		})
		if err != nil {
			w.logger.Error("cache populate failed", zap.String("url", target), zap.Error(err))
		}
	}

	copyHeader(responseWriter.Header(), response.Header)
	responseWriter.WriteHeader(response.StatusCode)
	responseWriter.Write(body) //nolint:errcheck
}

func writeCached(responseWriter http.ResponseWriter, cached CachedResponse, withBody bool) {
	copyHeader(responseWriter.Header(), cached.Header)
	status := cached.Status
	if status == 0 {
		status = http.StatusOK
	}
	responseWriter.WriteHeader(status)
	if withBody {
		responseWriter.Write(cached.Body) //nolint:errcheck
	}
}

func writeSyntheticNotFound(responseWriter http.ResponseWriter) {
	responseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")
	responseWriter.WriteHeader(http.StatusNotFound)
	io.WriteString(responseWriter, "404 failed") //nolint:errcheck
}

func relay(responseWriter http.ResponseWriter, response *http.Response) {
	copyHeader(responseWriter.Header(), response.Header)
	responseWriter.WriteHeader(response.StatusCode)
	io.Copy(responseWriter, response.Body) //nolint:errcheck
}

func copyHeader(destination, source http.Header) {
	for name, values := range source {
		for _, value := range values {
			destination.Add(name, value)
		}
	}
}

// pathSegments keeps empty segments so a trailing slash leaves the
// collection name second-to-last, matching how API collection paths look.
func pathSegments(path string) []string {
	return strings.Split(path, "/")
}

func last(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

func secondToLast(segments []string) string {
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2]
}
