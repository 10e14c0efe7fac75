// Package all links every query-pushdown backend into the binary. Import it
// for side effects:
//
//	import _ "thresher/internal/backend/all"
package all

import (
	_ "thresher/internal/backend/mssql"
	_ "thresher/internal/backend/postgres"
	_ "thresher/internal/backend/sqlite"
)
