// Package tracker implements tracker table management: the user-defined
// schemas (columns, primary key) and their row data.
//
// The service layer owns validation and authorization; it depends on the
// Repository interface defined here and never imports from api/.
// Repository implementations live in repository/postgres/.
package tracker
