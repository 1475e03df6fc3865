package errs

// PostgresClassifier classifies lib/pq errors using the SQLSTATE codes and
// message substrings spec §4.9 calls out for PostgreSQL/Aurora PostgreSQL
// Multi-AZ failover (28P01 invalid password -> AccessError; the connection-
// terminated family -> NetworkError, the trigger for C12).
var PostgresClassifier Classifier = NewTableClassifier([]Rule{
	{SQLState: "28P01", Kind: KindAccess},          // invalid_password
	{SQLState: "28000", Kind: KindAccess},          // invalid_authorization_specification
	{SQLState: "3D000", Kind: KindAccess},          // invalid_catalog_name
	{SQLState: "42601", Kind: KindSyntax},          // syntax_error
	{SQLState: "42501", Kind: KindAccess},          // insufficient_privilege
	{SQLState: "57P01", Kind: KindNetwork},         // admin_shutdown
	{SQLState: "57P02", Kind: KindNetwork},         // crash_shutdown
	{SQLState: "57P03", Kind: KindNetwork},         // cannot_connect_now
	{SQLState: "08000", Kind: KindNetwork},         // connection_exception
	{SQLState: "08003", Kind: KindNetwork},         // connection_does_not_exist
	{SQLState: "08006", Kind: KindNetwork},         // connection_failure
	{Substring: "connection refused", Kind: KindNetwork},
	{Substring: "connection reset", Kind: KindNetwork},
	{Substring: "connection terminated", Kind: KindNetwork},
	{Substring: "broken pipe", Kind: KindNetwork},
	{Substring: "i/o timeout", Kind: KindNetwork},
	{Substring: "no route to host", Kind: KindNetwork},
	{Substring: "password authentication failed", Kind: KindLogin},
})
