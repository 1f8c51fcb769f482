// Package feeds imports all built-in feeds for auto-registration.
// Import this package to have every feed registered with the default registry.
package feeds

import (
	// Import all feeds for side-effect registration
	_ "github.com/drblury/traceflow/feed/aws"
	_ "github.com/drblury/traceflow/feed/channel"
	_ "github.com/drblury/traceflow/feed/http"
	_ "github.com/drblury/traceflow/feed/io"
	_ "github.com/drblury/traceflow/feed/jetstream"
	_ "github.com/drblury/traceflow/feed/kafka"
	_ "github.com/drblury/traceflow/feed/nats"
	_ "github.com/drblury/traceflow/feed/postgres"
	_ "github.com/drblury/traceflow/feed/rabbitmq"
	_ "github.com/drblury/traceflow/feed/sqlite"
)
